package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJournalCompensatesInReverse(t *testing.T) {
	j := newJournal(discardLogger())

	var order []string
	for _, name := range []string{"pull", "split", "supply"} {
		name := name
		j.record(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, j.compensate(context.Background()))
	require.Equal(t, []string{"supply", "split", "pull"}, order)

	// Steps are consumed; a second pass is a no-op.
	order = nil
	require.NoError(t, j.compensate(context.Background()))
	require.Empty(t, order)
}

func TestJournalJoinsCompensationFailures(t *testing.T) {
	j := newJournal(discardLogger())

	errSplit := errors.New("split reversal rejected")
	errPull := errors.New("refund rejected")
	var ran []string

	j.record("pull", func(context.Context) error { return errPull })
	j.record("split", func(context.Context) error { return errSplit })
	j.record("supply", func(context.Context) error {
		ran = append(ran, "supply")
		return nil
	})

	err := j.compensate(context.Background())
	require.ErrorIs(t, err, errSplit)
	require.ErrorIs(t, err, errPull)
	// The clean step still ran despite the failures around it.
	require.Equal(t, []string{"supply"}, ran)
}

func TestJournalDiscard(t *testing.T) {
	j := newJournal(discardLogger())

	called := false
	j.record("pull", func(context.Context) error {
		called = true
		return nil
	})
	j.discard()

	require.NoError(t, j.compensate(context.Background()))
	require.False(t, called)
}
