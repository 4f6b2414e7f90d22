package main

import (
	"errors"
	"os"
	"syscall"

	"github.com/odvcencio/meetprobe/pkg/session"
)

const (
	exitOK                  = 0
	exitFailure             = 1
	exitUsage               = 2
	exitFailedToConnect     = 3
	exitFailedToReceiveData = 4
	exitSignalBase          = 128
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitFailure
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// silentExit ends the process with code and prints nothing.
func silentExit(code int) error {
	if code == exitOK {
		return nil
	}
	return exitError{code: code}
}

func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return exitFailure
}

// dispositionExitCode maps a finished run to a status. Without strict mode
// every disposition exits 0.
func dispositionExitCode(d session.Disposition, strict bool) int {
	if !strict {
		return exitOK
	}
	switch d {
	case session.DispositionFailedToConnect:
		return exitFailedToConnect
	case session.DispositionFailedToReceiveData:
		return exitFailedToReceiveData
	default:
		return exitOK
	}
}

func signalExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return exitSignalBase + int(s)
	}
	return exitSignalBase + int(syscall.SIGTERM)
}

func signalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return sig.String()
	}
}
