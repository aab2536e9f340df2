// Package worker は通知キューの消費とシンクへの配送を行うバックグラウンド処理を提供する。
// プロセッサ、並列制御、グレースフルシャットダウンを含む。
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/ytindexer/internal/indexer"
	"github.com/hitoshi/ytindexer/internal/model"
	"github.com/hitoshi/ytindexer/internal/queue"
)

// State はプロセッサのライフサイクル状態を表す。
type State string

const (
	// StateStopped は未起動または停止済みの状態。
	StateStopped State = "stopped"
	// StateRunning は通常稼働中の状態。
	StateRunning State = "running"
	// StateDraining は新規受付を止め、実行中タスクの完了を待っている状態。
	StateDraining State = "draining"
)

// NotificationParser は生ペイロードをNotificationに変換する。
// パース不能な入力にはnilを返す。
type NotificationParser interface {
	Parse(raw string) *model.Notification
}

// MetadataSanitizer は保存前のメタデータ文字列をサニタイズする。
type MetadataSanitizer interface {
	Sanitize(raw string) string
}

// VideoStorage は一次ストレージシンクのインターフェース。
type VideoStorage interface {
	StoreVideo(ctx context.Context, n *model.Notification) indexer.OperationResult
	HealthCheck(ctx context.Context) indexer.HealthStatus
}

// SearchIndexing は検索インデックスシンクのインターフェース。
type SearchIndexing interface {
	IndexVideo(ctx context.Context, n *model.Notification) indexer.OperationResult
	HealthCheck(ctx context.Context) indexer.HealthStatus
}

// ChannelStats はチャンネル統計シンクのインターフェース。
type ChannelStats interface {
	RecordActivity(ctx context.Context, n *model.Notification) indexer.OperationResult
	HealthCheck(ctx context.Context) indexer.HealthStatus
}

// MetricsRecorder はプロセッサが記録するメトリクスのインターフェース。
type MetricsRecorder interface {
	RecordProcessed(status string)
	RecordParseFailure()
	RecordQueueDepth(depth int64)
	RecordSinkLatency(sink string, duration time.Duration)
}

// Config はプロセッサの動作設定を保持する。
type Config struct {
	DequeueTimeout     time.Duration // ブロッキングデキューの待ち時間
	BatchSize          int           // バッチデキューの上限件数
	MaxConcurrentTasks int           // 同時処理タスク数の上限
	PollInterval       time.Duration // キューが空/エラー時の待機時間
	DrainGracePeriod   time.Duration // Stop時に実行中タスクの完了を待つ猶予
}

// normalize は未設定または不正な値をデフォルトに補正する。
func (c Config) normalize() Config {
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.DrainGracePeriod <= 0 {
		c.DrainGracePeriod = 30 * time.Second
	}
	return c
}

// Processor は通知キューを消費し、パース・サニタイズを経て
// 3つのシンクへ順次書き込むオーケストレーター。
// semaphoreパターンで同時処理数を制御し、Stopで実行中タスクを
// 猶予付きでドレインする。
// 単回使用であり、一度停止したProcessorを再Runすることはできない。
// 再起動にはNewProcessorで新しいインスタンスを生成する。
type Processor struct {
	queue     queue.Queue
	parser    NotificationParser
	sanitizer MetadataSanitizer
	storage   VideoStorage
	indexing  SearchIndexing
	stats     ChannelStats
	metrics   MetricsRecorder
	logger    *slog.Logger
	config    Config

	mu       sync.Mutex
	state    State
	started  bool
	stopOnce sync.Once

	// admissionCancel は新規デキューのみを止める。実行中タスクには影響しない。
	admissionCancel context.CancelFunc
	// taskCancel は猶予超過時に実行中タスクを強制キャンセルする。
	taskCancel context.CancelFunc

	sem  chan struct{}
	wg   sync.WaitGroup
	done chan struct{}
}

// NewProcessor はProcessorの新しいインスタンスを生成する。
func NewProcessor(
	q queue.Queue,
	parser NotificationParser,
	sanitizer MetadataSanitizer,
	storage VideoStorage,
	indexing SearchIndexing,
	stats ChannelStats,
	metrics MetricsRecorder,
	logger *slog.Logger,
	config Config,
) *Processor {
	config = config.normalize()
	return &Processor{
		queue:     q,
		parser:    parser,
		sanitizer: sanitizer,
		storage:   storage,
		indexing:  indexing,
		stats:     stats,
		metrics:   metrics,
		logger:    logger,
		config:    config,
		state:     StateStopped,
		sem:       make(chan struct{}, config.MaxConcurrentTasks),
		done:      make(chan struct{}),
	}
}

// State は現在のライフサイクル状態を返す。
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run はキューの消費ループを開始する。
// ctxのキャンセルまたはStopの呼び出しまでブロックする。
// 予期しないエラーではループを止めず、PollIntervalだけ待って継続する。
// 2回目以降の呼び出しは稼働中・停止後を問わず何もせずに返る。
func (p *Processor) Run(ctx context.Context) {
	admissionCtx, admissionCancel := context.WithCancel(ctx)
	taskCtx, taskCancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		admissionCancel()
		taskCancel()
		p.logger.Warn("プロセッサは再利用できません。新しいインスタンスを生成してください")
		return
	}
	p.started = true
	p.state = StateRunning
	p.admissionCancel = admissionCancel
	p.taskCancel = taskCancel
	p.mu.Unlock()

	p.logger.Info("プロセッサを開始しました",
		slog.Int("max_concurrent_tasks", p.config.MaxConcurrentTasks),
		slog.Int("batch_size", p.config.BatchSize),
	)

	defer close(p.done)

	for {
		// 空きスロットを確保してからデキューする。
		// 全スロットが埋まっている間はキューからアイテムを取り出さない。
		select {
		case p.sem <- struct{}{}:
		case <-admissionCtx.Done():
			p.drain()
			return
		}

		item, ok, err := p.queue.Dequeue(admissionCtx, p.config.DequeueTimeout)
		if err != nil {
			<-p.sem
			if admissionCtx.Err() != nil {
				p.drain()
				return
			}
			p.logger.Error("デキューに失敗しました",
				slog.String("error", err.Error()),
			)
			p.sleep(admissionCtx, p.config.PollInterval)
			continue
		}
		if !ok {
			<-p.sem
			if admissionCtx.Err() != nil {
				p.drain()
				return
			}
			continue
		}

		p.spawn(taskCtx, item)

		// 滞留がある場合は空きスロット分だけまとめて取り込む
		p.catchUp(admissionCtx, taskCtx)
	}
}

// catchUp はキューの長さがバッチ閾値以上の場合に、空きスロット分を
// 上限としてバッチデキューを行う。
func (p *Processor) catchUp(admissionCtx, taskCtx context.Context) {
	size, err := p.queue.Size(admissionCtx)
	if err != nil {
		return
	}
	p.metrics.RecordQueueDepth(size)

	if size < int64(p.config.BatchSize) {
		return
	}

	free := cap(p.sem) - len(p.sem)
	if free <= 0 {
		return
	}
	n := p.config.BatchSize
	if n > free {
		n = free
	}

	items, err := p.queue.BatchDequeue(admissionCtx, n)
	if err != nil {
		p.logger.Error("バッチデキューに失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, item := range items {
		// 取り出し済みアイテムはドレイン中でも処理する
		p.sem <- struct{}{}
		p.spawn(taskCtx, item)
	}
}

// spawn は1アイテムの処理ゴルーチンを起動する。セマフォは取得済みであること。
func (p *Processor) spawn(taskCtx context.Context, item queue.Item) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		defer func() {
			if rec := recover(); rec != nil {
				p.logger.Error("通知処理でpanicが発生しました",
					slog.Any("panic", rec),
				)
			}
		}()
		p.processItem(taskCtx, item)
	}()
}

// processItem は1件の通知をパースし、サニタイズして3つのシンクへ配送する。
func (p *Processor) processItem(ctx context.Context, item queue.Item) {
	n := p.parser.Parse(item.Raw)
	if n == nil {
		p.metrics.RecordParseFailure()
		p.logger.Warn("通知のパースに失敗したため破棄します",
			slog.Int("payload_bytes", len(item.Raw)),
		)
		return
	}

	n.Title = p.sanitizer.Sanitize(n.Title)
	n.Author = p.sanitizer.Sanitize(n.Author)

	result := indexer.ProcessingResult{VideoID: n.VideoID}

	start := time.Now()
	result.Storage = p.storage.StoreVideo(ctx, n)
	p.metrics.RecordSinkLatency("storage", time.Since(start))

	start = time.Now()
	result.Indexing = p.indexing.IndexVideo(ctx, n)
	p.metrics.RecordSinkLatency("search", time.Since(start))

	start = time.Now()
	result.Stats = p.stats.RecordActivity(ctx, n)
	p.metrics.RecordSinkLatency("stats", time.Since(start))

	status := result.OverallStatus()
	p.metrics.RecordProcessed(string(status))

	switch status {
	case indexer.StatusSuccess:
		p.logger.Info("通知を処理しました",
			slog.String("video_id", n.VideoID),
			slog.String("channel_id", n.ChannelID),
		)
	case indexer.StatusPartialSuccess:
		p.logger.Warn("通知を部分的に処理しました",
			slog.String("video_id", n.VideoID),
			slog.String("indexing_status", string(result.Indexing.Status)),
			slog.String("stats_status", string(result.Stats.Status)),
		)
	default:
		p.logger.Error("通知の処理に失敗しました",
			slog.String("video_id", n.VideoID),
			slog.String("storage_message", result.Storage.Message),
		)
	}
}

// sleep はコンテキストのキャンセルに応答しながら待機する。
func (p *Processor) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// drain は実行中タスクの完了を猶予付きで待つ。
// 猶予を超過した場合はタスクコンテキストを強制キャンセルして完了を待つ。
func (p *Processor) drain() {
	p.mu.Lock()
	p.state = StateDraining
	taskCancel := p.taskCancel
	p.mu.Unlock()

	p.logger.Info("ドレインを開始します",
		slog.Duration("grace_period", p.config.DrainGracePeriod),
	)

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.logger.Info("全タスクが完了しました")
	case <-time.After(p.config.DrainGracePeriod):
		p.logger.Warn("ドレイン猶予を超過したため実行中タスクをキャンセルします")
		taskCancel()
		<-finished
	}

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
}

// Stop は新規デキューを停止し、実行中タスクのドレイン完了まで同期的に待つ。
// 複数回呼び出しても安全で、2回目以降は最初のドレイン完了を待つだけになる。
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel := p.admissionCancel
	p.mu.Unlock()
	if cancel == nil {
		// Runが開始されていない場合は待つものがない
		return
	}
	p.stopOnce.Do(cancel)
	<-p.done
}

// HealthCheck は3シンクのヘルスを並列に収集し、全体の健全性を判定する。
// プロセッサが稼働中かつ全シンクが健全な場合のみhealthy=trueを返す。
func (p *Processor) HealthCheck(ctx context.Context) (bool, []indexer.HealthStatus) {
	checkers := []struct {
		name  string
		probe func(context.Context) indexer.HealthStatus
	}{
		{"video_storage", p.storage.HealthCheck},
		{"search_indexing", p.indexing.HealthCheck},
		{"channel_stats", p.stats.HealthCheck},
	}

	statuses := make([]indexer.HealthStatus, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, name string, probe func(context.Context) indexer.HealthStatus) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					statuses[i] = indexer.HealthStatus{
						ServiceName: name,
						IsHealthy:   false,
						Message:     "ヘルスチェックでpanicが発生しました",
					}
				}
			}()
			statuses[i] = probe(ctx)
		}(i, c.name, c.probe)
	}
	wg.Wait()

	healthy := p.State() == StateRunning
	for _, s := range statuses {
		if !s.IsHealthy {
			healthy = false
		}
	}
	return healthy, statuses
}
