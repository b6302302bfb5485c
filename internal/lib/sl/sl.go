// Package sl содержит вспомогательные функции для структурированного логирования slog.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
// Для nil возвращается пустая строка, чтобы вызов в ветке логирования не паниковал.
//
// Пример:
//
//	log.Error("failed to debit wallet", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
