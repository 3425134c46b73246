package recommend

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestDefaultSettings_AreValid(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("デフォルト設定が検証に失敗: %v", err)
	}
}

func TestDefaultSettings_CoverEveryKey(t *testing.T) {
	m := DefaultSettings().ToMap()
	if len(m) != len(SettingKeys) {
		t.Fatalf("ToMap has %d keys, SettingKeys has %d", len(m), len(SettingKeys))
	}
	for _, k := range SettingKeys {
		if _, ok := m[k]; !ok {
			t.Errorf("ToMap に %s がありません", k)
		}
	}
}

func TestParseSettings_MissingKeysUseDefaults(t *testing.T) {
	s, invalid := ParseSettings(map[string]string{KeyLikeWeight: "7.5"})
	if len(invalid) != 0 {
		t.Errorf("invalid = %v, want none", invalid)
	}
	want := DefaultSettings()
	want.LikeWeight = 7.5
	if s != want {
		t.Errorf("settings = %+v, want %+v", s, want)
	}
}

func TestParseSettings_UnparsableValuesFallBack(t *testing.T) {
	s, invalid := ParseSettings(map[string]string{
		KeyCommentWeight: "abc",
		KeyMaxAgeDays:    "",
		KeyTopicBonus:    " 4 ",
	})
	slices.Sort(invalid)
	if !slices.Equal(invalid, []string{KeyCommentWeight, KeyMaxAgeDays}) {
		t.Errorf("invalid = %v", invalid)
	}
	if s.CommentWeight != DefaultSettings().CommentWeight {
		t.Errorf("CommentWeight = %v, want default", s.CommentWeight)
	}
	if s.MaxAgeDays != DefaultSettings().MaxAgeDays {
		t.Errorf("MaxAgeDays = %v, want default", s.MaxAgeDays)
	}
	if s.TopicBonus != 4 {
		t.Errorf("TopicBonus = %v, want 4（前後の空白は無視）", s.TopicBonus)
	}
}

func TestParseSettings_IntegerKeysAcceptDecimalNotation(t *testing.T) {
	s, _ := ParseSettings(map[string]string{KeyMaxAgeDays: "14.0", KeyMaxAdminRecommended: "3"})
	if s.MaxAgeDays != 14 || s.MaxAdminRecommended != 3 {
		t.Errorf("MaxAgeDays/MaxAdminRecommended = %d/%d, want 14/3", s.MaxAgeDays, s.MaxAdminRecommended)
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		field  string
	}{
		{"負の重み", func(s *Settings) { s.LikeWeight = -1 }, "LikeWeight"},
		{"減衰日数0", func(s *Settings) { s.TimeDecayDays = 0 }, "TimeDecayDays"},
		{"最大日数0", func(s *Settings) { s.MaxAgeDays = 0 }, "MaxAgeDays"},
		{"比率が1超", func(s *Settings) { s.MaxSameAuthorRatio = 1.5 }, "MaxSameAuthorRatio"},
		{"負の管理者枠", func(s *Settings) { s.MaxAdminRecommended = -1 }, "MaxAdminRecommended"},
		{"更新間隔0", func(s *Settings) { s.UpdateIntervalHours = 0 }, "UpdateIntervalHours"},
		{"最大日数が100年超", func(s *Settings) { s.MaxAgeDays = 1000000 }, "MaxAgeDays"},
		{"更新間隔が1年超", func(s *Settings) { s.UpdateIntervalHours = 3000000 }, "UpdateIntervalHours"},
		{"キャッシュ期限が1年超", func(s *Settings) { s.CacheExpireMinutes = 600000 }, "CacheExpireMinutes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("err = %v, want ErrInvalidSettings", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("エラーメッセージに %s が含まれていません: %v", tt.field, err)
			}
		})
	}
}

func TestSettings_NegativeThresholdAllowed(t *testing.T) {
	s := DefaultSettings()
	s.ScoreThreshold = -1
	if err := s.Validate(); err != nil {
		t.Errorf("scoreThreshold は制約なし: %v", err)
	}
}

func TestSettings_Durations(t *testing.T) {
	s := DefaultSettings()
	s.CacheExpireMinutes = 5
	s.UpdateIntervalHours = 0.5
	if got := s.ListCacheTTL().Minutes(); got != 5 {
		t.Errorf("ListCacheTTL = %vm, want 5m", got)
	}
	if got := s.UpdateInterval().Minutes(); got != 30 {
		t.Errorf("UpdateInterval = %vm, want 30m", got)
	}
}

func TestSettings_UpperBoundsAccepted(t *testing.T) {
	s := DefaultSettings()
	s.MaxAgeDays = 36500
	s.UpdateIntervalHours = 8760
	s.CacheExpireMinutes = 525600
	if err := s.Validate(); err != nil {
		t.Fatalf("上限値は許容されるべき: %v", err)
	}
	if got := s.UpdateInterval(); got <= 0 {
		t.Errorf("UpdateInterval = %v, want positive", got)
	}
	if got := s.ListCacheTTL(); got <= 0 {
		t.Errorf("ListCacheTTL = %v, want positive", got)
	}
}
