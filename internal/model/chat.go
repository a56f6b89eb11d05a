package model

type ChatTurn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

type ChatTurnRecord struct {
	Tenant string `json:"tenant"`
	UserID string `json:"user_id"`
	Seq    int64  `json:"seq"`
	ChatTurn
	Ctime int64 `json:"ctime"`
}
