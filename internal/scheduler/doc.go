// Package scheduler реализует очистку истории runs по расписанию.
//
// Scheduler по cron-выражению (github.com/robfig/cron/v3) удаляет
// из хранилища runs старше retention.
//
// Структура:
//   - scheduler.go — Scheduler (Tick, Start, Stop)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Store:     runRepo,
//	    Retention: 720 * time.Hour,
//	    Schedule:  "@hourly",
//	    Logger:    logger,
//	})
//	sched.Start(ctx)
//	defer sched.Stop()
package scheduler
