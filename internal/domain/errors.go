package domain

import "errors"

// Типизированные ошибки ядра. Контракт для вызывающих слоев:
// HTTP-хендлеры и коннекторы делают switch через errors.Is,
// а не матчинг по тексту (string matching — анти-паттерн).
var (
	ErrSessionNotFound   = errors.New("session_not_found")
	ErrCommandNotFound   = errors.New("command_not_found")
	ErrMacroNotSupported = errors.New("macro_not_supported")
	ErrUnsupportedTool   = errors.New("unsupported_tool")

	// ErrStaleTransition возвращается репозиторием при неудачном CAS:
	// статус команды уже изменил кто-то другой (гонка Enqueue/SubmitResult).
	ErrStaleTransition = errors.New("stale_command_transition")

	ErrPolicyNotFound = errors.New("policy_not_found")
	ErrUserNotFound   = errors.New("user_not_found")
)
