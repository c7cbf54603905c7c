package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunc(t *testing.T) {
	var seen []string

	var n Notifier = Func(func(text string) {
		seen = append(seen, text)
	})

	require.NoError(t, n.Notify(context.Background(), "working..."))
	assert.Equal(t, []string{"working..."}, seen)
}

func TestContextFunc(t *testing.T) {
	wantErr := errors.New("edit conflict")

	var n Notifier = ContextFunc(func(ctx context.Context, text string) error {
		assert.Equal(t, "working...", text)
		return wantErr
	})

	assert.ErrorIs(t, n.Notify(context.Background(), "working..."), wantErr)
}
