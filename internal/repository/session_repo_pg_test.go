package repository

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
)

func TestNewSessionStore(t *testing.T) {
	pool := &pgxpool.Pool{}
	store := NewSessionStore(pool)
	assert.NotNil(t, store)
}

func TestSessionFilter_Limit(t *testing.T) {
	assert.Equal(t, defaultListLimit, SessionFilter{}.limit())
	assert.Equal(t, 5, SessionFilter{Limit: 5}.limit())
	assert.Equal(t, defaultListLimit, SessionFilter{Limit: 5000}.limit())
}
