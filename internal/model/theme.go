package model

type Theme struct {
	Label   string `json:"label"`
	Icon    string `json:"icon"`
	Snippet string `json:"snippet"`
}
