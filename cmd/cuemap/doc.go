// Package main hosts the cuemap CLI.
//
// Each invocation opens the project database, loads its markers into a
// session, runs one command and saves the result. The session command keeps
// one session open across many edits so undo and redo are available.
package main
