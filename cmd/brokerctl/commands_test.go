package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/xtrntr/papertrade/internal/ledger"
	"github.com/xtrntr/papertrade/internal/models"
)

func TestPortfolioMarkdown(t *testing.T) {
	p := &ledger.Portfolio{
		Positions: []ledger.Position{{
			Symbol: "NFLX",
			Name:   "Netflix",
			Shares: 2,
			Price:  decimal.RequireFromString("25"),
			Value:  decimal.RequireFromString("50"),
		}},
		Cash:  decimal.RequireFromString("9975"),
		Total: decimal.RequireFromString("10025"),
	}

	md := portfolioMarkdown("alice", p)
	assert.Contains(t, md, "# Portfolio of alice")
	assert.Contains(t, md, "| NFLX | Netflix | 2 | $25.00 | $50.00 |")
	assert.Contains(t, md, "| CASH | | | | $9,975.00 |")
	assert.Contains(t, md, "**$10,025.00**")
}

func TestWriteHistory(t *testing.T) {
	var buf bytes.Buffer
	writeHistory(&buf, []models.Transaction{{
		ID:     uuid.New(),
		Symbol: "NFLX",
		Shares: -3,
		Price:  decimal.RequireFromString("25"),
		Time:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}})
	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "2024-01-02 03:04:05  NFLX"))
	assert.Contains(t, line, "$25.00")
}

func TestCommandNames(t *testing.T) {
	var names []string
	for _, c := range commands {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"migrate", "register", "quote", "buy", "sell", "portfolio", "history", "export"}, names)
}
