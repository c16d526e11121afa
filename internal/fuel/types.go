package fuel

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Grade identifies one of the published fuel products.
type Grade string

const (
	GradeRON95        Grade = "ron95"
	GradeRON97        Grade = "ron97"
	GradeDiesel       Grade = "diesel"
	GradeDieselEastMY Grade = "diesel_eastmsia"

	seriesTypeLevel  = "level"
	seriesTypeChange = "change_weekly"
)

// Grades lists every published grade in display order.
var Grades = []Grade{GradeRON95, GradeRON97, GradeDiesel, GradeDieselEastMY}

var gradeLabels = map[Grade]string{
	GradeRON95:        "RON95",
	GradeRON97:        "RON97",
	GradeDiesel:       "Diesel (Peninsular)",
	GradeDieselEastMY: "Diesel (East Malaysia)",
}

// Valid reports whether the grade is one of the published products.
func (g Grade) Valid() bool {
	_, ok := gradeLabels[g]
	return ok
}

// Label returns the human-readable product name.
func (g Grade) Label() string {
	if label, ok := gradeLabels[g]; ok {
		return label
	}
	return string(g)
}

// Date is a calendar day without a time component.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate truncates t to its calendar day in UTC.
func NewDate(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts the catalogue's 2006-01-02 form as well as full RFC 3339.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return NewDate(t), nil
}

// String renders the calendar day.
func (d Date) String() string {
	return d.Format(dateLayout)
}

// MarshalJSON renders the day as "2006-01-02".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

// UnmarshalJSON parses either a bare day or an RFC 3339 timestamp.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// PricePoint holds one day's quoted prices across all grades. For the
// weekly-change series the values are deltas rather than absolute prices.
// Grades the upstream did not supply are tracked separately from the zero
// value; JSON encoding omits them so absence survives persistence.
type PricePoint struct {
	Date          Date
	RON95         decimal.Decimal
	RON97         decimal.Decimal
	Diesel        decimal.Decimal
	DieselEastMY  decimal.Decimal
	presentGrades map[Grade]bool
}

// Price returns the quoted value for one grade. The second return is false
// when the upstream record did not carry that grade.
func (p PricePoint) Price(g Grade) (decimal.Decimal, bool) {
	if p.presentGrades != nil && !p.presentGrades[g] {
		return decimal.Decimal{}, false
	}
	switch g {
	case GradeRON95:
		return p.RON95, true
	case GradeRON97:
		return p.RON97, true
	case GradeDiesel:
		return p.Diesel, true
	case GradeDieselEastMY:
		return p.DieselEastMY, true
	default:
		return decimal.Decimal{}, false
	}
}

type pricePointJSON struct {
	Date         Date             `json:"date"`
	RON95        *decimal.Decimal `json:"ron95,omitempty"`
	RON97        *decimal.Decimal `json:"ron97,omitempty"`
	Diesel       *decimal.Decimal `json:"diesel,omitempty"`
	DieselEastMY *decimal.Decimal `json:"diesel_eastmsia,omitempty"`
}

// MarshalJSON emits only the grades the upstream supplied. A grade that is
// absent must stay absent across a persistence round trip, not reappear as
// a zero price.
func (p PricePoint) MarshalJSON() ([]byte, error) {
	out := pricePointJSON{Date: p.Date}
	set := func(g Grade, src decimal.Decimal, dst **decimal.Decimal) {
		if p.presentGrades != nil && !p.presentGrades[g] {
			return
		}
		v := src
		*dst = &v
	}
	set(GradeRON95, p.RON95, &out.RON95)
	set(GradeRON97, p.RON97, &out.RON97)
	set(GradeDiesel, p.Diesel, &out.Diesel)
	set(GradeDieselEastMY, p.DieselEastMY, &out.DieselEastMY)
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the point, recording which grades the payload
// carried.
func (p *PricePoint) UnmarshalJSON(data []byte) error {
	var in pricePointJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*p = FeedRecord{
		Date:         in.Date,
		RON95:        in.RON95,
		RON97:        in.RON97,
		Diesel:       in.Diesel,
		DieselEastMY: in.DieselEastMY,
	}.Point()
	return nil
}

// Series is a date-ascending sequence of price points.
type Series []PricePoint

// Latest returns the most recent point of the series.
func (s Series) Latest() (PricePoint, bool) {
	if len(s) == 0 {
		return PricePoint{}, false
	}
	return s[len(s)-1], true
}

// Snapshot bundles the level and weekly-change series produced by one
// upstream fetch.
type Snapshot struct {
	Level  Series `json:"level"`
	Change Series `json:"change"`
}

// FeedRecord mirrors one element of the raw catalogue payload.
type FeedRecord struct {
	SeriesType   string           `json:"series_type"`
	Date         Date             `json:"date"`
	RON95        *decimal.Decimal `json:"ron95"`
	RON97        *decimal.Decimal `json:"ron97"`
	Diesel       *decimal.Decimal `json:"diesel"`
	DieselEastMY *decimal.Decimal `json:"diesel_eastmsia"`
}

// Point converts the record into a PricePoint, tracking which grades the
// upstream actually supplied.
func (r FeedRecord) Point() PricePoint {
	point := PricePoint{
		Date:          r.Date,
		presentGrades: make(map[Grade]bool, len(Grades)),
	}
	assign := func(g Grade, v *decimal.Decimal, dst *decimal.Decimal) {
		if v == nil {
			return
		}
		*dst = *v
		point.presentGrades[g] = true
	}
	assign(GradeRON95, r.RON95, &point.RON95)
	assign(GradeRON97, r.RON97, &point.RON97)
	assign(GradeDiesel, r.Diesel, &point.Diesel)
	assign(GradeDieselEastMY, r.DieselEastMY, &point.DieselEastMY)
	return point
}

// PartitionRecords splits the raw payload into the level and weekly-change
// series, deduplicates dates (the last record in payload order wins) and
// sorts each series ascending. Records with an unknown series type are
// dropped.
func PartitionRecords(records []FeedRecord) Snapshot {
	level := make(map[string]PricePoint)
	change := make(map[string]PricePoint)

	for _, rec := range records {
		switch rec.SeriesType {
		case seriesTypeLevel:
			level[rec.Date.String()] = rec.Point()
		case seriesTypeChange:
			change[rec.Date.String()] = rec.Point()
		}
	}

	return Snapshot{
		Level:  sortedSeries(level),
		Change: sortedSeries(change),
	}
}

func sortedSeries(byDate map[string]PricePoint) Series {
	series := make(Series, 0, len(byDate))
	for _, point := range byDate {
		series = append(series, point)
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].Date.Before(series[j].Date.Time)
	})
	return series
}

// SortSeries orders points ascending by date in place and returns the slice.
// Used for payloads that arrive pre-partitioned, such as the forecast.
func SortSeries(series Series) Series {
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Date.Before(series[j].Date.Time)
	})
	return series
}
