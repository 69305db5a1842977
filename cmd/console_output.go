package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

var colors = colorstring.Colorize{Colors: colorstring.DefaultColors}

// ConsoleWriter renders zerolog's JSON events as short coloured lines.
type ConsoleWriter struct {
	Out io.Writer
	// ShowFields appends every field of the event below the message.
	ShowFields bool
	buffer     strings.Builder
	lock       sync.Mutex
}

func NewConsoleWriter() *ConsoleWriter {
	return &ConsoleWriter{Out: os.Stderr}
}

func levelColor(level interface{}) string {
	switch level {
	case "fatal", "error":
		return "[red]"
	case "warn":
		return "[yellow]"
	case "debug", "trace":
		return "[blue]"
	default:
		return "[green]"
	}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	// Only the colour codes go through colorstring, messages may contain brackets.
	w.buffer.WriteString(colors.Color(levelColor(evt["level"])))

	if app, ok := evt["app"].(string); ok {
		w.buffer.WriteString(app)
		if step, ok := evt["step"].(string); ok {
			w.buffer.WriteString("/" + step)
		}
		w.buffer.WriteString(": ")
	}

	if evt["command"] == true {
		w.buffer.WriteString("$ ")
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)

	if path, ok := evt["path"].(string); ok {
		// simplify the path
		relPath, err := filepath.Rel(".", path)
		if err == nil {
			msg = strings.ReplaceAll(msg, path, relPath)
		}
	}

	w.buffer.WriteString(msg)

	if errorDetails, ok := evt["error"].(string); ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(errorDetails)
	}

	if w.ShowFields {
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		w.buffer.WriteString("\n")
		for _, name := range names {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	w.buffer.WriteString(colors.Color("[reset]"))
	w.buffer.WriteString("\n")

	_, err = io.WriteString(w.Out, w.buffer.String())
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func setErrorFormat(withTrace bool) {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, withTrace)
	}
}
