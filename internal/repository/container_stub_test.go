//go:build !integration

package repository

import (
	"context"
	"errors"
)

func startPostgres(context.Context) (string, func(), error) {
	return "", func() {}, errors.New("containers need -tags integration")
}
