package models

import "encoding/json"

// Profile is the user profile returned by the auth and user-info endpoints.
type Profile struct {
	ID          string          `json:"id"`
	Username    string          `json:"username"`
	DisplayName string          `json:"nickname"`
	AvatarURL   string          `json:"avatar"`
	Email       string          `json:"email,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Session is an authenticated identity: a bearer token and its profile.
type Session struct {
	Token   string  `json:"token"`
	Profile Profile `json:"profile"`
}

// ProfileFromJSON decodes a profile object, falling back across the field
// names used by the different identity backends.
func ProfileFromJSON(data []byte) (Profile, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Profile{}, err
	}

	p := Profile{
		ID:       firstString(fields, "id", "user_id", "sub"),
		Username: firstString(fields, "username", "name"),
		Email:    firstString(fields, "email"),
		Phone:    firstString(fields, "phone"),
		Raw:      append(json.RawMessage(nil), data...),
	}
	p.DisplayName = firstString(fields, "nickname", "displayName", "name", "username")
	p.AvatarURL = firstString(fields, "avatar", "avatarUrl", "photo", "picture")
	return p, nil
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
