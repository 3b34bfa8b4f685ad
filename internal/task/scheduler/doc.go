// Package scheduler turns schedule strings (cron, @every, durations, HH:MM)
// into triggers that enqueue tasks on the task engine. It never runs jobs itself.
package scheduler
