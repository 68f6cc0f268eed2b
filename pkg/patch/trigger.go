package patch

// Always applies on every level
func Always(Facts) bool { return true }

// LevelEquals applies on exactly level
func LevelEquals(level int) Trigger {
	return func(f Facts) bool { return f.APILevel == level }
}

// LevelBelow applies on levels strictly below level
func LevelBelow(level int) Trigger {
	return func(f Facts) bool { return f.APILevel < level }
}

// LevelAtLeast applies on level and above
func LevelAtLeast(level int) Trigger {
	return func(f Facts) bool { return f.APILevel >= level }
}

// LevelBetween applies on levels in [min, max]
func LevelBetween(min, max int) Trigger {
	return func(f Facts) bool { return f.APILevel >= min && f.APILevel <= max }
}
