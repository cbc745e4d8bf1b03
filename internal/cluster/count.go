package cluster

// DefaultWorkerCount 返回默认 worker 数量：CPU 数的一半（向上取整）。
func DefaultWorkerCount(cpus int) int {
	if cpus < 1 {
		return 1
	}
	return (cpus + 1) / 2
}

// WorkerCount 把请求的数量约束在 [1, cpus] 之间；requested 为 0 时使用默认值。
func WorkerCount(requested, cpus int) int {
	if cpus < 1 {
		cpus = 1
	}
	if requested == 0 {
		requested = DefaultWorkerCount(cpus)
	}
	if requested < 1 {
		requested = 1
	}
	if requested > cpus {
		requested = cpus
	}
	return requested
}
