package models

import "time"

const (
	// DefaultMaxAttempts бюджет попыток на одну заявку
	DefaultMaxAttempts = 3

	// DefaultDailyQuota активных заявок на владельца на одну дату
	DefaultDailyQuota = 2

	// DefaultRetryBase базовая задержка перед повтором
	DefaultRetryBase = 5 * time.Minute

	// DefaultRetryCap потолок экспоненциальной задержки
	DefaultRetryCap = time.Hour

	// DefaultDispatchTick период сканирования готовых заявок
	DefaultDispatchTick = 30 * time.Second

	// DefaultAttemptTimeout таймаут одного обращения к сайту
	DefaultAttemptTimeout = 90 * time.Second

	// DefaultMaxInFlight одновременных обращений к сайту
	DefaultMaxInFlight = 2

	// DefaultExpireSweep период проверки просроченных заявок
	DefaultExpireSweep = time.Hour

	// DefaultPurgeSweep период удаления старых терминальных записей
	DefaultPurgeSweep = 6 * time.Hour

	// DefaultRetentionDays хранение терминальных записей
	DefaultRetentionDays = 30

	// DefaultExpiryGrace запас после target_date до истечения заявки
	DefaultExpiryGrace = 24 * time.Hour

	// DefaultSubmitRateLimit заявок в окне на владельца
	DefaultSubmitRateLimit = 10

	// DefaultSubmitRateWindow окно ограничения частоты заявок
	DefaultSubmitRateWindow = time.Minute
)
