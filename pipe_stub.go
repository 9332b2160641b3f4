//go:build !unix

package main

import (
	"errors"
	"os"

	"go.uber.org/zap"
)

func createPipe(_ string, _ *zap.Logger) (*os.File, error) {
	return nil, errors.New("named pipes are not supported on this platform")
}

func removePipe(_ string) {}
