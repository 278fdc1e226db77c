/*
Package pacmirror is a tool for mirroring pacman package repositories.

pacmirror keeps a local copy of the packages a set of profiles selects:
  - Conditional downloads keyed on the server's Last-Modified time
  - Ordered mirror fallback per repository
  - Staged extraction of repository databases
  - Cache cleaning driven by the same profiles
  - A lock file guarding concurrent runs

The main packages are:

	github.com/mirrorctl/pacmirror/internal/pacdb   - repository database format parsing
	github.com/mirrorctl/pacmirror/internal/mirror  - core mirroring logic and storage
	github.com/mirrorctl/pacmirror/cmd/pacmirror    - command-line interface
*/
package pacmirror
