package exchange

// Synchronization 工作单元完成回调.
type Synchronization interface {
	// OnComplete Exchange 成功完成.
	OnComplete(ex *Exchange)
	// OnFailure Exchange 以失败结束.
	OnFailure(ex *Exchange)
}

// SynchronizationFuncs 以函数形式实现 Synchronization，未设置的回调忽略.
type SynchronizationFuncs struct {
	Complete func(ex *Exchange)
	Failure  func(ex *Exchange)
}

// OnComplete 实现 Synchronization.
func (s SynchronizationFuncs) OnComplete(ex *Exchange) {
	if s.Complete != nil {
		s.Complete(ex)
	}
}

// OnFailure 实现 Synchronization.
func (s SynchronizationFuncs) OnFailure(ex *Exchange) {
	if s.Failure != nil {
		s.Failure(ex)
	}
}

// AddOnCompletion 注册完成回调.
func (e *Exchange) AddOnCompletion(s Synchronization) {
	e.completions = append(e.completions, s)
}

// HandoverCompletions 将完成回调转移给 target.
func (e *Exchange) HandoverCompletions(target *Exchange) {
	if target == e || len(e.completions) == 0 {
		return
	}
	target.completions = append(target.completions, e.completions...)
	e.completions = nil
}

// Done 结束工作单元，按注册顺序执行一次完成回调.
//
// 重复调用无效果.
func (e *Exchange) Done() {
	if e.done {
		return
	}
	e.done = true

	completions := e.completions
	e.completions = nil
	failed := e.Failed()
	for _, s := range completions {
		if failed {
			s.OnFailure(e)
		} else {
			s.OnComplete(e)
		}
	}
}

// IsDone 工作单元是否已结束.
func (e *Exchange) IsDone() bool {
	return e.done
}
