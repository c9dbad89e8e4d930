package domain

const MaxInterestTags = 10

// MatchCriteria is the structured filter sent with a join-queue request.
// All fields are optional from the relay's point of view; zero values mean
// "no preference".
type MatchCriteria struct {
	Region           string   `json:"region,omitempty"`
	Language         string   `json:"language,omitempty"`
	Gender           string   `json:"gender,omitempty"`
	GenderPreference string   `json:"genderPreference,omitempty"`
	Interests        []string `json:"interests,omitempty"`
	QueueType        string   `json:"queueType,omitempty"`

	// Language-exchange pairing.
	NativeLanguage   string `json:"nativeLanguage,omitempty"`
	LearningLanguage string `json:"learningLanguage,omitempty"`
}

// Normalize enforces the interest tag ceiling. The relay trusts no client,
// so it runs the same cap on ingest.
func (c MatchCriteria) Normalize() MatchCriteria {
	if len(c.Interests) > MaxInterestTags {
		c.Interests = c.Interests[:MaxInterestTags]
	}
	return c
}

// DeviceClass selects codec ordering and capture defaults for the host.
type DeviceClass string

const (
	DeviceDesktop  DeviceClass = "desktop"
	DeviceMobile   DeviceClass = "mobile"
	DeviceLowPower DeviceClass = "low-power"
)
