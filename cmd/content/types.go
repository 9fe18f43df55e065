package main

import "time"

type Course struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type Lesson struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	Title     string    `json:"title"`
	VideoPath string    `json:"video_path"`
	Segmented bool      `json:"segmented"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

type Announcement struct {
	ID        string     `json:"id"`
	CourseID  string     `json:"course_id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Published *time.Time `json:"published_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
