// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package internal

import (
	"runtime"
	"sync"
)

// Pools of constant sized arrays of a given element type, to reduce memory allocation overhead
// for per-pass scratch buffers
type sizedPools[T any] struct {
	sync.RWMutex
	m map[int]*sync.Pool
}

func newSizedPools[T any]() *sizedPools[T] {
	return &sizedPools[T]{m: make(map[int]*sync.Pool)}
}

// Returns the pool for arrays of the given size, creating it on first use
func (p *sizedPools[T]) get(size int) *sync.Pool {
	p.RLock()
	pool := p.m[size]
	p.RUnlock()
	if pool != nil {
		return pool
	}

	p.Lock()
	defer p.Unlock()
	if pool = p.m[size]; pool == nil {
		pool = &sync.Pool{
			New: func() interface{} {
				if size > 10000000 {
					m := runtime.MemStats{}
					runtime.ReadMemStats(&m)
					LogPrintf("make %d (%d MiB) alloc %d totalAlloc %d sys %d (all MiB)\n", size, (size*4)/1024/1024, m.Alloc/1024/1024, m.TotalAlloc/1024/1024, m.Sys/1024/1024)
				}
				return make([]T, size)
			},
		}
		p.m[size] = pool
	}
	return pool
}

var poolFloat32 = newSizedPools[float32]()
var poolUint8 = newSizedPools[uint8]()

// Retrieves an array of given size from the pool. Contents are undefined
func GetArrayOfFloat32FromPool(size int) []float32 {
	return poolFloat32.get(size).Get().([]float32)
}

// Returns an array to the pool
func PutArrayOfFloat32IntoPool(arr []float32) {
	poolFloat32.get(cap(arr)).Put(arr[:cap(arr)])
}

// Retrieves an array of given size from the pool. Contents are undefined
func GetArrayOfUint8FromPool(size int) []uint8 {
	return poolUint8.get(size).Get().([]uint8)
}

// Returns an array to the pool
func PutArrayOfUint8IntoPool(arr []uint8) {
	poolUint8.get(cap(arr)).Put(arr[:cap(arr)])
}
