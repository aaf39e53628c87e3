// Package stages содержит примитивы выполнения стадий pipeline.
//
// # Обзор
//
// Стадия — именованная единица workflow. У каждой стадии один из четырёх типов:
//
//   - sequential — вызываем и ждём; ошибка фатальна для run
//   - optional — вызываем и ждём; ошибка превращается в warning, выход пустой
//   - parallel — fan-out на ≥2 участника с общим входом; ждём всех,
//     выбираем первый успешный по явному precedence; все упали — фатально
//   - background — запускаем и не ждём; результат приходит позже
//     как success или warning, но никогда error
//
// # Recorder
//
// Стадии не пишут состояние напрямую. Каждый переход шага
// (idle → processing → success|error|warning) передаётся в Recorder,
// которому принадлежит состояние run:
//
//	type Recorder interface {
//	    Transition(id domain.StepID, result domain.StepResult)
//	}
//
// # Ошибки
//
//   - FatalStageError — sequential/parallel стадия упала, run прерывается
//   - DegradedStageError — optional стадия упала, только лог
//   - BackgroundError — background стадия упала, только лог
package stages
