package model

type WeeklyBucket struct {
	Week           string `json:"week"`
	Sessions       int    `json:"sessions"`
	Duration       int    `json:"duration"`
	CaloriesBurned int    `json:"caloriesBurned"`
}

type AnalyticsSnapshot struct {
	TotalSessions       int            `json:"totalSessions"`
	TotalDuration       int            `json:"totalDuration"`
	AverageDuration     int            `json:"averageDuration"`
	TotalCaloriesBurned int            `json:"totalCaloriesBurned"`
	WeeklyBuckets       []WeeklyBucket `json:"weeklyBuckets"`
	CurrentStreak       int            `json:"currentStreak"`
	LongestStreak       int            `json:"longestStreak"`
}
