package grid

import (
	"golang.org/x/text/language"
)

// Sunday-first weekday labels. Index i is time.Weekday(i) in every set.
var labelSets = []struct {
	tag    language.Tag
	labels [7]string
}{
	{language.English, [7]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}},
	{language.Portuguese, [7]string{"DOM", "SEG", "TER", "QUA", "QUI", "SEX", "SAB"}},
	{language.Korean, [7]string{"일", "월", "화", "수", "목", "금", "토"}},
}

var labelMatcher = func() language.Matcher {
	tags := make([]language.Tag, len(labelSets))
	for i, s := range labelSets {
		tags[i] = s.tag
	}
	return language.NewMatcher(tags)
}()

// Labels returns the weekday header for locale (a BCP 47 tag such as
// "pt-BR"). Unknown or malformed tags get the English set.
func Labels(locale string) [7]string {
	tag, err := language.Parse(locale)
	if err != nil {
		return labelSets[0].labels
	}
	_, idx, conf := labelMatcher.Match(tag)
	if conf == language.No {
		return labelSets[0].labels
	}
	return labelSets[idx].labels
}
