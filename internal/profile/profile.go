// Package profile provides the leveled profile field filter and read-only
// access to the profile subsystem's tables. The core never writes
// profiles; it only decides which fields a viewer may see.
package profile

// Profile is the partner-profile shape returned to viewers. Filtering
// nulls fields rather than omitting them, so clients can render stable
// "not shared yet" placeholders.
type Profile struct {
	UserID          string   `json:"user_id"`
	DisplayName     *string  `json:"display_name"`
	Age             *int     `json:"age"`
	AvatarURL       *string  `json:"avatar_url"`
	Occupation      *string  `json:"occupation"`
	Education       *string  `json:"education"`
	City            *string  `json:"city"`
	HeightCm        *int     `json:"height_cm"`
	RealName        *string  `json:"real_name"`
	InstagramHandle *string  `json:"instagram_handle"`
	PhotoURLs       []string `json:"photo_urls"`
	Bio             Bio      `json:"bio"`
}

// Bio is the free-form bio/intent payload. It is filtered field-by-field
// against the per-level allow-list, never included or dropped wholesale.
type Bio struct {
	AboutMe      *string `json:"about_me"`
	LookingFor   *string `json:"looking_for"`
	Values       *string `json:"values"`
	LifeGoals    *string `json:"life_goals"`
	DealBreakers *string `json:"deal_breakers"`
}

// Flags are the global per-user questionnaire-completion flags, owned by
// the profile subsystem and read-only here.
type Flags struct {
	Level2Completed bool
	Level3Completed bool
}

// Completed reports whether the user finished the questionnaire for a
// level. Level 1 needs no questionnaire.
func (f Flags) Completed(level int) bool {
	switch level {
	case 2:
		return f.Level2Completed
	case 3:
		return f.Level3Completed
	}
	return true
}

// Field visibility tiers. Each level's populated set is a strict superset
// of the level below.
const (
	levelBasic     = 1 // display name, age, avatar, about_me
	levelLifestyle = 2 // occupation, education, city, height, looking_for, values
	levelIdentity  = 3 // real name, socials, photos, life_goals, deal_breakers
)

// Filter returns a copy of p with every field above the given level set to
// nil. The shape is unchanged.
func Filter(p Profile, level int) Profile {
	out := Profile{UserID: p.UserID}

	if level >= levelBasic {
		out.DisplayName = p.DisplayName
		out.Age = p.Age
		out.AvatarURL = p.AvatarURL
		out.Bio.AboutMe = p.Bio.AboutMe
	}
	if level >= levelLifestyle {
		out.Occupation = p.Occupation
		out.Education = p.Education
		out.City = p.City
		out.HeightCm = p.HeightCm
		out.Bio.LookingFor = p.Bio.LookingFor
		out.Bio.Values = p.Bio.Values
	}
	if level >= levelIdentity {
		out.RealName = p.RealName
		out.InstagramHandle = p.InstagramHandle
		out.PhotoURLs = p.PhotoURLs
		out.Bio.LifeGoals = p.Bio.LifeGoals
		out.Bio.DealBreakers = p.Bio.DealBreakers
	}
	return out
}
