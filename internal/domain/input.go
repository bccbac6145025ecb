package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Каналы, через которые кампания может выходить к аудитории.
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelSocial  = "social"
	ChannelVideo   = "video"
	ChannelDisplay = "display"
	ChannelSearch  = "search"
)

var knownChannels = []string{
	ChannelEmail, ChannelSMS, ChannelSocial, ChannelVideo, ChannelDisplay, ChannelSearch,
}

// Audience — целевая аудитория кампании.
type Audience struct {
	Demographics string   `json:"demographics,omitempty"`
	Interests    []string `json:"interests,omitempty"`
	Location     string   `json:"location,omitempty"`
}

// CampaignInput — входные параметры кампании, передаются в StartCampaign.
type CampaignInput struct {
	// CampaignID — бизнес-идентификатор кампании (например, CAMP-2025-001).
	// Если пустой, генерируется при создании run.
	CampaignID string `json:"campaign_id,omitempty"`

	// CampaignName — человекочитаемое название.
	CampaignName string `json:"campaign_name,omitempty"`

	TargetAudience Audience `json:"target_audience"`

	// Budget — общий бюджет кампании, > 0.
	Budget float64 `json:"budget"`

	Objectives []string `json:"objectives,omitempty"`

	// Channels — каналы размещения, хотя бы один из известных.
	Channels []string `json:"channels"`
}

// Normalize приводит каналы к нижнему регистру и убирает дубликаты.
func (in *CampaignInput) Normalize() {
	seen := make(map[string]bool, len(in.Channels))
	channels := make([]string, 0, len(in.Channels))
	for _, ch := range in.Channels {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		channels = append(channels, ch)
	}
	in.Channels = channels
	in.CampaignName = strings.TrimSpace(in.CampaignName)
}

// Validate проверяет входные параметры.
func (in CampaignInput) Validate() error {
	if in.Budget <= 0 {
		return fmt.Errorf("%w: budget must be positive", ErrInvalidInput)
	}
	if len(in.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrInvalidInput)
	}
	for _, ch := range in.Channels {
		if !slices.Contains(knownChannels, ch) {
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, ch)
		}
	}
	return nil
}

// DisplayName возвращает название кампании или её ID.
func (in CampaignInput) DisplayName() string {
	if in.CampaignName != "" {
		return in.CampaignName
	}
	return in.CampaignID
}
