package normalize

import "testing"

func TestParseEducationLevel(t *testing.T) {
	tests := []struct {
		text string
		want EducationLevel
	}{
		{"PhD in Computer Science", EducationDoctorate},
		{"Ph.D.", EducationDoctorate},
		{"Doctor of Philosophy", EducationDoctorate},
		{"doctorate", EducationDoctorate},
		{"DPhil, Oxford", EducationDoctorate},
		{"MSc Computer Science", EducationMaster},
		{"M.S. in Statistics", EducationMaster},
		{"Master's of Science", EducationMaster},
		{"MBA", EducationMaster},
		{"M.B.A.", EducationMaster},
		{"MEng Software Engineering", EducationMaster},
		{"Bachelor of Arts", EducationBachelor},
		{"bachelor's degree", EducationBachelor},
		{"BSc (Hons)", EducationBachelor},
		{"B.Tech in ECE", EducationBachelor},
		{"BA History", EducationBachelor},
		{"Associate of Applied Science", EducationAssociate},
		{"A.A. degree", EducationAssociate},
		{"Diploma in Marketing", EducationDiploma},
		{"AWS Certification", EducationDiploma},
		{"High School", EducationHighSchool},
		{"high  school diploma", EducationHighSchool}, // school level wins over the certificate word
		{"GED", EducationHighSchool},
		{"", EducationUnknown},
		{"coding bootcamp", EducationUnknown},
		{"Doctor of Medicine", EducationUnknown}, // not on the ordinal scale
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := ParseEducationLevel(tt.text); got != tt.want {
				t.Errorf("ParseEducationLevel(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestEducationLevel_Ordering(t *testing.T) {
	ordered := []EducationLevel{
		EducationUnknown,
		EducationHighSchool,
		EducationDiploma,
		EducationAssociate,
		EducationBachelor,
		EducationMaster,
		EducationDoctorate,
	}

	for i := 1; i < len(ordered); i++ {
		if ordered[i-1] >= ordered[i] {
			t.Errorf("%v should be below %v", ordered[i-1], ordered[i])
		}
	}
}

func TestEducationLevel_String(t *testing.T) {
	tests := []struct {
		level EducationLevel
		want  string
	}{
		{EducationUnknown, "unknown"},
		{EducationHighSchool, "high school"},
		{EducationDiploma, "diploma"},
		{EducationAssociate, "associate"},
		{EducationBachelor, "bachelor"},
		{EducationMaster, "master"},
		{EducationDoctorate, "doctorate"},
		{EducationLevel(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", int(tt.level), got, tt.want)
		}
	}
}
