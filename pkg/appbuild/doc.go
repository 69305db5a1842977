// Package appbuild builds the user applications of a teaching kernel into flat binary images.
// Every application gets its own load address (base + step * index) which is handed to the
// link step either through a generated per-application linker script or by patching the shared
// script in place. Commands are run through mvdan.cc/sh so build recipes stay portable.
package appbuild
