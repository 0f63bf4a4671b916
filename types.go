package main

import "time"

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

type Memory struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Story     string    `json:"story"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	Date      time.Time `json:"date"`
	UserID    int64     `json:"user_id"`
}

type Appreciation struct {
	ID          int64  `json:"id"`
	Text        string `json:"text"`
	AuthorID    int64  `json:"author_id"`
	RecipientID int64  `json:"recipient_id"`
}

// AppreciationNote is an Appreciation joined with its author's username,
// as shown on the listing page.
type AppreciationNote struct {
	Appreciation
	AuthorName string `json:"author_name"`
}
