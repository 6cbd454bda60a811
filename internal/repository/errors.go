package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("not found")

// MessageQuery selects messages of one conversation by sequence bounds.
// Zero bounds are ignored.
type MessageQuery struct {
	ConversationID string
	BeforeSeq      int64
	AfterSeq       int64
	Limit          int
}

// scanner — общий интерфейс pgx.Row и pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
