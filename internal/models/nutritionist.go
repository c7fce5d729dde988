package models

import "time"

type Nutritionist struct {
	SubjectID      string    `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
	Bio            string    `json:"bio"`
	AvatarURL      *string   `json:"avatar_url,omitempty"`
	IsOnline       bool      `json:"is_online"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type NutritionistSummary struct {
	Name           string  `json:"name"`
	Specialization string  `json:"specialization"`
	IsOnline       bool    `json:"is_online"`
	AvatarURL      *string `json:"avatar_url,omitempty"`
}
