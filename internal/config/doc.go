// Package config загружает конфигурацию Veil из YAML.
//
// Файл описывает зависимые сервисы, привязку стадий pipeline к сервисам,
// параметры health monitor и хранение истории. Процессные параметры
// (DB_URL, RABBITMQ_URL, VEIL_PORT) переопределяются из окружения.
//
// Watch следит за файлом через fsnotify и отдаёт новую конфигурацию
// после каждой успешной перезагрузки; невалидный файл игнорируется.
package config
