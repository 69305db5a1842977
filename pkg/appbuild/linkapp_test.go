package appbuild

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLinkApp(t *testing.T) {
	apps, err := Plan([]string{"hello_world", "initproc"}, 0x80400000, 0x20000)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	require.NoError(t, WriteLinkApp(out, apps, "target/release"))

	assert.Equal(t, `    .align 3
    .section .data
    .global _num_app
_num_app:
    .quad 2
    .quad app_0_start
    .quad app_1_start
    .quad app_1_end

    .global _app_names
_app_names:
    .string "hello_world"
    .string "initproc"

    .section .data
    .global app_0_start
    .global app_0_end
    .align 3
app_0_start:
    .incbin "target/release/hello_world.bin"
app_0_end:

    .section .data
    .global app_1_start
    .global app_1_end
    .align 3
app_1_start:
    .incbin "target/release/initproc.bin"
app_1_end:
`, out.String())
}

func TestWriteLinkAppEmpty(t *testing.T) {
	out := &bytes.Buffer{}
	require.NoError(t, WriteLinkApp(out, nil, "target"))

	assert.Contains(t, out.String(), "    .quad 0\n")
	assert.NotContains(t, out.String(), "app_0")
}

func TestWriteLinkAppFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "os", "src", "link_app.S")
	apps := []App{{Name: "a\"b", Index: 0, Address: 0x80400000}}

	require.NoError(t, WriteLinkAppFile(path, apps, "bins"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `.string "a\"b"`)
	assert.Contains(t, string(data), `.incbin "bins/a\"b.bin"`)
}
