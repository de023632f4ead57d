package tasks

import (
	"context"
	"sync"

	"qarag-go/pkg/log"
)

// Pool 是进程内的任务队列：固定数量的 worker 从带缓冲的 channel 中取任务执行。
type Pool struct {
	processor Processor
	workers   int
	queue     chan IngestTask

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool 创建任务池，需调用 Start 启动 worker。
func NewPool(size, workers int, processor Processor) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	return &Pool{
		processor: processor,
		workers:   workers,
		queue:     make(chan IngestTask, size),
	}
}

// Start 启动 worker。ctx 会传递给每个任务的处理过程。
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for task := range p.queue {
				log.Infof("[TaskPool] worker %d 开始处理任务: DocID=%s, Kind=%s", id, task.DocID, task.Kind)
				if err := p.processor.Process(ctx, task); err != nil {
					log.Errorf("[TaskPool] 任务处理失败: DocID=%s, Error: %v", task.DocID, err)
				}
			}
		}(i)
	}
	log.Infof("[TaskPool] 已启动 %d 个 worker", p.workers)
}

// Submit 投递任务，不会阻塞调用方：队列已满时立即返回 ErrQueueFull。
func (p *Pool) Submit(ctx context.Context, task IngestTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}
	select {
	case p.queue <- task:
		return nil
	default:
		log.Warnf("[TaskPool] 队列已满, 拒绝任务: DocID=%s, capacity=%d", task.DocID, cap(p.queue))
		return ErrQueueFull
	}
}

// Close 停止接收任务，并等待队列中已有的任务处理完毕。
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
