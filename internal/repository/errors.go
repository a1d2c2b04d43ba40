package repository

import "errors"

var (
	// ErrVersionConflict условное обновление не нашло строку с ожидаемой версией
	ErrVersionConflict = errors.New("version conflict")
	// ErrOverlap сработало ограничение на пересечение интервалов
	ErrOverlap = errors.New("interval overlaps existing row")
	// ErrDuplicate нарушен уникальный индекс
	ErrDuplicate = errors.New("duplicate key")
	// ErrNoRows обновление или удаление не затронуло ни одной строки
	ErrNoRows = errors.New("no rows affected")
)
