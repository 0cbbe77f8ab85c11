package store

import "fmt"

// InsertUserPrompt records a single submitted prompt. Immutable after
// insert (§3 UserPrompt).
func (s *Store) InsertUserPrompt(sessionID int64, promptNum int, text string) (*UserPrompt, error) {
	res, err := s.db.Exec(
		`INSERT INTO user_prompts (session_id, prompt_num, text, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, promptNum, text, now(),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting user prompt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading user prompt id: %w", err)
	}
	return &UserPrompt{ID: id, SessionID: sessionID, PromptNum: promptNum, Text: text, CreatedAt: now()}, nil
}
