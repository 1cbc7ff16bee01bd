package profile

import (
	"encoding/json"
	"testing"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

// fullProfile returns a profile with every field populated.
func fullProfile() Profile {
	return Profile{
		UserID:          "user-1",
		DisplayName:     strPtr("Mia"),
		Age:             intPtr(29),
		AvatarURL:       strPtr("https://cdn.example.com/a.jpg"),
		Occupation:      strPtr("architect"),
		Education:       strPtr("masters"),
		City:            strPtr("Lisbon"),
		HeightCm:        intPtr(168),
		RealName:        strPtr("Maria K."),
		InstagramHandle: strPtr("@mia"),
		PhotoURLs:       []string{"https://cdn.example.com/1.jpg", "https://cdn.example.com/2.jpg"},
		Bio: Bio{
			AboutMe:      strPtr("coffee and hiking"),
			LookingFor:   strPtr("something real"),
			Values:       strPtr("honesty"),
			LifeGoals:    strPtr("build a studio"),
			DealBreakers: strPtr("smoking"),
		},
	}
}

// ---------------------------------------------------------------------------
// Filter: per-level field sets
// ---------------------------------------------------------------------------

func TestFilter_Level1HidesEverythingAboveBasic(t *testing.T) {
	got := Filter(fullProfile(), 1)

	if got.DisplayName == nil || got.Age == nil || got.AvatarURL == nil {
		t.Error("level 1 should keep display name, age, and avatar")
	}
	if got.Bio.AboutMe == nil {
		t.Error("level 1 should keep about_me")
	}

	if got.Occupation != nil || got.Education != nil || got.City != nil || got.HeightCm != nil {
		t.Error("level 1 must not expose lifestyle fields")
	}
	if got.RealName != nil || got.InstagramHandle != nil || got.PhotoURLs != nil {
		t.Error("level 1 must not expose identity fields")
	}
	if got.Bio.LookingFor != nil || got.Bio.Values != nil {
		t.Error("level 1 must not expose level-2 bio fields")
	}
	if got.Bio.LifeGoals != nil || got.Bio.DealBreakers != nil {
		t.Error("level 1 must not expose level-3 bio fields")
	}
}

func TestFilter_Level2AddsLifestyleOnly(t *testing.T) {
	got := Filter(fullProfile(), 2)

	if got.Occupation == nil || got.Education == nil || got.City == nil || got.HeightCm == nil {
		t.Error("level 2 should expose lifestyle fields")
	}
	if got.Bio.LookingFor == nil || got.Bio.Values == nil {
		t.Error("level 2 should expose looking_for and values")
	}
	if got.RealName != nil || got.InstagramHandle != nil || got.PhotoURLs != nil {
		t.Error("level 2 must not expose identity fields")
	}
	if got.Bio.LifeGoals != nil || got.Bio.DealBreakers != nil {
		t.Error("level 2 must not expose level-3 bio fields")
	}
}

func TestFilter_Level3ExposesEverything(t *testing.T) {
	in := fullProfile()
	got := Filter(in, 3)

	if got.RealName == nil || got.InstagramHandle == nil {
		t.Error("level 3 should expose real name and socials")
	}
	if len(got.PhotoURLs) != len(in.PhotoURLs) {
		t.Errorf("level 3 should expose all photos, got %d", len(got.PhotoURLs))
	}
	if got.Bio.LifeGoals == nil || got.Bio.DealBreakers == nil {
		t.Error("level 3 should expose life_goals and deal_breakers")
	}
}

func TestFilter_UserIDAlwaysKept(t *testing.T) {
	for level := 0; level <= 3; level++ {
		got := Filter(fullProfile(), level)
		if got.UserID != "user-1" {
			t.Errorf("level %d: user id lost", level)
		}
	}
}

// ---------------------------------------------------------------------------
// Filter: monotonicity — each level's populated set contains the lower one's
// ---------------------------------------------------------------------------

func TestFilter_MonotonicAcrossLevels(t *testing.T) {
	in := fullProfile()

	populated := func(p Profile) map[string]bool {
		raw, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		set := make(map[string]bool)
		for k, v := range m {
			if k == "bio" {
				for bk, bv := range v.(map[string]interface{}) {
					if bv != nil {
						set["bio."+bk] = true
					}
				}
				continue
			}
			if v != nil {
				set[k] = true
			}
		}
		return set
	}

	prev := populated(Filter(in, 1))
	for level := 2; level <= 3; level++ {
		cur := populated(Filter(in, level))
		for field := range prev {
			if !cur[field] {
				t.Errorf("level %d dropped field %q that level %d exposed", level, field, level-1)
			}
		}
		prev = cur
	}
}

// ---------------------------------------------------------------------------
// Filter: hidden fields serialize as null, not absent
// ---------------------------------------------------------------------------

func TestFilter_HiddenFieldsAreNullNotOmitted(t *testing.T) {
	raw, err := json.Marshal(Filter(fullProfile(), 1))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"occupation", "city", "real_name", "instagram_handle", "photo_urls"} {
		v, present := m[key]
		if !present {
			t.Errorf("field %q omitted; clients expect an explicit null", key)
			continue
		}
		if v != nil {
			t.Errorf("field %q should be null at level 1, got %v", key, v)
		}
	}

	bio, ok := m["bio"].(map[string]interface{})
	if !ok {
		t.Fatalf("bio should always be an object, got %T", m["bio"])
	}
	for _, key := range []string{"looking_for", "values", "life_goals", "deal_breakers"} {
		v, present := bio[key]
		if !present {
			t.Errorf("bio field %q omitted", key)
			continue
		}
		if v != nil {
			t.Errorf("bio field %q should be null at level 1, got %v", key, v)
		}
	}
}

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

func TestFlagsCompleted(t *testing.T) {
	f := Flags{Level2Completed: true}

	if !f.Completed(1) {
		t.Error("level 1 needs no questionnaire")
	}
	if !f.Completed(2) {
		t.Error("expected level 2 completed")
	}
	if f.Completed(3) {
		t.Error("expected level 3 not completed")
	}
}
