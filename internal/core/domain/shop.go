package domain

import "time"

type Shop struct {
	ID        int64
	Name      string
	Address   string
	AvgPrice  int64
	Score     int
	CreatedAt time.Time
	UpdatedAt time.Time
}
