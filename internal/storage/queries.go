package storage

const (
	// Wallet queries
	GetWalletByIDQuery = `
		SELECT id, user_id, currency, balance, version, created_at, updated_at
		FROM wallets
		WHERE id = $1
	`

	// Получить кошелек пользователя по валюте
	GetWalletByUserAndCurrencyQuery = `
		SELECT id, user_id, currency, balance, version, created_at, updated_at
		FROM wallets
		WHERE user_id = $1 AND currency = $2
	`

	// Получить все кошельки пользователя
	GetAllUserWalletsQuery = `
		SELECT id, user_id, currency, balance, version, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
		ORDER BY currency
	`

	// Создать новый кошелек
	CreateWalletQuery = `
		INSERT INTO wallets (id, user_id, currency, balance)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, currency, balance, version, created_at, updated_at
	`

	// Чтение баланса кошелька с блокировкой строки
	GetWalletStateQuery = `
		SELECT balance
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`

	// Обновление баланса кошелька
	UpdateWalletBalanceQuery = `
		UPDATE wallets
		SET balance = $1
		WHERE id = $2
	`

	// User queries
	CreateUserQuery = `
		INSERT INTO users (id, username, email, password_hash, verification_level)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, username, email, verification_level, created_at, updated_at
	`

	GetUserByUsernameQuery = `
		SELECT id, username, email, password_hash, verification_level, created_at, updated_at
		FROM users
		WHERE username = $1
	`

	GetUserByIDQuery = `
		SELECT id, username, email, password_hash, verification_level, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	// Exchange rate queries (курс валюты к USD)
	GetAllRatesQuery = `
		SELECT id, currency, rate, updated_at
		FROM exchange_rates
		ORDER BY currency
	`

	GetRateByCurrencyQuery = `
		SELECT id, currency, rate, updated_at
		FROM exchange_rates
		WHERE currency = $1
	`

	// Liquidity pool queries
	GetAllPoolsQuery = `
		SELECT currency, available_balance, target_balance, min_threshold, max_threshold,
		       last_rebalance_at, updated_at
		FROM liquidity_pools
		ORDER BY currency
	`

	GetPoolByCurrencyQuery = `
		SELECT currency, available_balance, target_balance, min_threshold, max_threshold,
		       last_rebalance_at, updated_at
		FROM liquidity_pools
		WHERE currency = $1
	`

	// Чтение баланса пула с блокировкой строки валюты
	GetPoolBalanceForUpdateQuery = `
		SELECT available_balance
		FROM liquidity_pools
		WHERE currency = $1
		FOR UPDATE
	`

	UpdatePoolBalanceQuery = `
		UPDATE liquidity_pools
		SET available_balance = $1, updated_at = now()
		WHERE currency = $2
	`

	TouchPoolRebalanceQuery = `
		UPDATE liquidity_pools
		SET last_rebalance_at = now(), updated_at = now()
		WHERE currency = $1
	`

	// Append-only журнал движений пула
	InsertMovementQuery = `
		INSERT INTO liquidity_movements (id, currency, movement_type, amount, balance_after, reason, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	ListMovementsQuery = `
		SELECT id, currency, movement_type, amount, balance_after, reason, reference, created_at
		FROM liquidity_movements
		WHERE currency = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	// Transaction queries
	InsertTransactionQuery = `
		INSERT INTO transactions (
			id, sender_id, recipient_id, amount, source_currency, target_currency,
			exchange_rate, fee, converted_amount, status, transaction_type,
			external_reference, bank_details, request_id, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	selectTransactionColumns = `
		SELECT id, sender_id, recipient_id, amount, source_currency, target_currency,
		       exchange_rate, fee, converted_amount, status, transaction_type,
		       external_reference, bank_details, failure_reason, created_at, updated_at, completed_at
		FROM transactions
	`

	GetTransactionByIDQuery = selectTransactionColumns + `
		WHERE id = $1
	`

	// Чтение транзакции по внешней ссылке с блокировкой строки: вебхук и
	// cancel сериализуются на ней
	GetTransactionByReferenceForUpdateQuery = selectTransactionColumns + `
		WHERE external_reference = $1
		FOR UPDATE
	`

	GetTransactionByIDForUpdateQuery = selectTransactionColumns + `
		WHERE id = $1
		FOR UPDATE
	`

	// Переход статуса с предусловием: 0 затронутых строк означает,
	// что состояние уже изменилось конкурентно
	UpdateTransactionStatusQuery = `
		UPDATE transactions
		SET status = $1,
		    failure_reason = $2,
		    completed_at = CASE WHEN $1 = 'completed' THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $3 AND status = $4
	`

	SetTransactionReferenceQuery = `
		UPDATE transactions
		SET external_reference = $1, updated_at = now()
		WHERE id = $2
	`

	TransactionRequestExistsQuery = `
		SELECT EXISTS(
			SELECT 1
			FROM transactions
			WHERE request_id = $1
		)
	`

	CountCompletedBetweenQuery = `
		SELECT count(*)
		FROM transactions
		WHERE sender_id = $1 AND recipient_id = $2 AND status = 'completed'
	`

	// Instant eligibility queries
	GetInstantUsageQuery = `
		SELECT user_id, currency, direction, daily_limit, daily_used, reset_date
		FROM instant_eligibility
		WHERE user_id = $1 AND currency = $2 AND direction = $3
	`

	GetInstantUsageForUpdateQuery = `
		SELECT user_id, currency, direction, daily_limit, daily_used, reset_date
		FROM instant_eligibility
		WHERE user_id = $1 AND currency = $2 AND direction = $3
		FOR UPDATE
	`

	// Инкремент дневного использования со сбросом на границе календарного дня
	UpsertInstantUsageQuery = `
		INSERT INTO instant_eligibility (user_id, currency, direction, daily_limit, daily_used, reset_date)
		VALUES ($1, $2, $3, $4, $5, CURRENT_DATE)
		ON CONFLICT (user_id, currency, direction) DO UPDATE
		SET daily_used = CASE
			WHEN instant_eligibility.reset_date < CURRENT_DATE THEN EXCLUDED.daily_used
			ELSE instant_eligibility.daily_used + EXCLUDED.daily_used
		END,
		daily_limit = EXCLUDED.daily_limit,
		reset_date = CURRENT_DATE
	`

	// Retry queries
	InsertRetryQuery = `
		INSERT INTO transaction_retries (id, transaction_id, reason, attempt_count, max_attempts, next_attempt_at, trigger_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	GetLatestRetryQuery = `
		SELECT id, transaction_id, reason, attempt_count, max_attempts, next_attempt_at, trigger_type, created_at
		FROM transaction_retries
		WHERE transaction_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	// Просроченные повторы: join на статус гарантирует, что уже
	// перезапущенная транзакция не будет выбрана повторно
	ListDueRetriesQuery = `
		SELECT r.id, r.transaction_id, r.reason, r.attempt_count, r.max_attempts, r.next_attempt_at, r.trigger_type, r.created_at
		FROM transaction_retries r
		JOIN transactions t ON t.id = r.transaction_id
		WHERE t.status = 'retry_scheduled' AND r.next_attempt_at <= now()
		ORDER BY r.next_attempt_at
		LIMIT $1
	`

	// Rebalance queue queries
	InsertRebalanceActionQuery = `
		INSERT INTO pool_rebalance_queue (id, action, from_currency, to_currency, amount, priority, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	MarkRebalanceActionQuery = `
		UPDATE pool_rebalance_queue
		SET status = $1, executed_at = CASE WHEN $1 = 'executed' THEN now() ELSE executed_at END
		WHERE id = $2
	`

	ListPendingRebalanceActionsQuery = `
		SELECT id, action, from_currency, to_currency, amount, priority, status, created_at, executed_at
		FROM pool_rebalance_queue
		WHERE status = 'pending'
		ORDER BY created_at
	`
)
