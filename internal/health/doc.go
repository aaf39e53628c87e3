// Package health следит за доступностью зависимых сервисов.
//
// Monitor по таймеру (по умолчанию раз в 5 секунд) параллельно опрашивает
// liveness endpoint каждого сервиса и целиком заменяет карту HealthRecord.
// Ошибка probe — это данные, а не ошибка: CheckAll всегда завершается.
//
// Сервис без собственного liveness endpoint (доступен только через другие
// сервисы) считается healthy по соглашению и помечается
// "health inferred from dependents". Такой сервис входит в знаменатель
// Summary: если для него появится прямой probe, доля healthy изменится.
package health
