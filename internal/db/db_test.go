package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type widget struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"type:varchar(32);not null"`
	CreatedAt time.Time
}

func TestOpenSQLiteAndMigrate(t *testing.T) {
	gdb, err := Open("sqlite:file:db_open_test?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb, &widget{}))

	require.NoError(t, gdb.Create(&widget{Name: "a"}).Error)
	var n int64
	require.NoError(t, gdb.Model(&widget{}).Count(&n).Error)
	require.Equal(t, int64(1), n)
}
