package db

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskhive/pkg/config"
)

func TestDSN_EscapesCredentials(t *testing.T) {
	dsn := DSN(config.DBConfig{Host: "db", Port: 5432, User: "taskhive", Password: "p@ss/word", Name: "taskhive"})
	assert.Equal(t, "postgres://taskhive:p%40ss%2Fword@db:5432/taskhive?sslmode=disable&application_name=taskhive", dsn)
}
