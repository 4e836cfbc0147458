package model

// Settings describe one training or testing run.
type Settings struct {
	Symbols      []string
	StartDate    string
	EndDate      string
	RandomStart  bool
	SaveLocation string
}

type TelegramSettings struct {
	Enabled bool
	Token   string
	Users   []int64
}
