package model

// CreateSessionRequest is the payload for creating a new game session.
// Host identity comes from the caller's token, not the body.
type CreateSessionRequest struct {
	Title     string                  `json:"title" binding:"required,min=1,max=255"`
	Questions []CreateQuestionRequest `json:"questions" binding:"required,min=1,max=200,dive"`
	Settings  SettingsRequest         `json:"settings"`
}

// CreateQuestionRequest describes one question of a new session.
type CreateQuestionRequest struct {
	Text         string   `json:"text" binding:"required,min=1,max=2000"`
	Options      []string `json:"options" binding:"required,len=4,dive,required,max=500"`
	CorrectIndex *int     `json:"correct_index" binding:"required,min=0,max=3"`
	TimeLimit    int      `json:"time_limit" binding:"required,min=10,max=120"`
	Points       *int     `json:"points" binding:"omitempty,min=0,max=10000"`
	Explanation  string   `json:"explanation" binding:"omitempty,max=2000"`
}

// SettingsRequest carries optional scoring settings.
type SettingsRequest struct {
	SpeedBonusEnabled bool `json:"speed_bonus_enabled"`
	MaxSpeedBonus     *int `json:"max_speed_bonus" binding:"omitempty,min=0,max=10000"`
}

// CreateSessionResponse is returned after a session is created.
type CreateSessionResponse struct {
	SessionID     string `json:"session_id"`
	JoinCode      string `json:"join_code"`
	QuestionCount int    `json:"question_count"`
}

// JoinSessionRequest is the payload for joining by code.
type JoinSessionRequest struct {
	JoinCode string `json:"join_code" binding:"required,joincode"`
}

// SubmitAnswerRequest is the payload for answering the current question.
type SubmitAnswerRequest struct {
	QuestionID    string `json:"question_id" binding:"required,uuid"`
	SelectedIndex *int   `json:"selected_index" binding:"required,min=0,max=3"`
	TimeSpentMs   *int64 `json:"time_spent_ms" binding:"omitempty,min=0"`
}

// AdvanceRequest optionally pins the question index the host believes is current.
type AdvanceRequest struct {
	ExpectedIndex *int `json:"expected_index" binding:"omitempty,min=0"`
}
