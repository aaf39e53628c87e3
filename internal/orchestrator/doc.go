// Package orchestrator выполняет pipeline анализа.
//
// Orchestrator отвечает за:
//   - Композицию стадий в фиксированный workflow
//     (input → pseudonymization → augmentation → analysis a|b →
//     validation → feedback (фон) → restoration → output)
//   - Владение состоянием run (PipelineState)
//   - Защиту от повторного входа: Execute во время run отклоняется
//   - Уведомление наблюдателей о каждом переходе шага
//   - Запись завершённых runs в историю
//
// Состояние принадлежит одной горутине (state loop). Стадии, включая
// участников parallel и background задачи, присылают переходы сообщениями
// в канал; loop применяет их по одному и уведомляет наблюдателей.
package orchestrator
