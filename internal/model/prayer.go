package model

import "time"

// PrayerNames is the fixed daily order the next-prayer scan walks.
var PrayerNames = [5]string{"Fajr", "Dhuhr", "Asr", "Maghrib", "Isha"}

// Schedule holds one day's five prayer times as "HH:MM" strings.
type Schedule struct {
	Fajr    string `json:"Fajr"`
	Dhuhr   string `json:"Dhuhr"`
	Asr     string `json:"Asr"`
	Maghrib string `json:"Maghrib"`
	Isha    string `json:"Isha"`
}

// Times returns the schedule in scan order, parallel to PrayerNames.
func (s *Schedule) Times() [5]string {
	return [5]string{s.Fajr, s.Dhuhr, s.Asr, s.Maghrib, s.Isha}
}

// CachedSchedule is the cache envelope for a schedule. The stored date
// scopes the entry to one calendar day: a schedule read back on a different
// day is a miss regardless of TTL.
type CachedSchedule struct {
	Date        string           `json:"date"` // YYYY-MM-DD, local calendar day
	FetchedAt   time.Time        `json:"fetchedAt"`
	PrayerTimes Schedule         `json:"prayerTimes"`
	Location    ScheduleLocation `json:"location"`
}

// ScheduleLocation records which position a schedule was fetched for.
type ScheduleLocation struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Quality   Quality `json:"quality"`
}

// NextPrayer is the derived countdown view, recomputed every tick and never
// stored.
type NextPrayer struct {
	Name       string `json:"name"`
	Time       string `json:"time"`
	ETAMinutes int    `json:"eta_minutes"`
}
