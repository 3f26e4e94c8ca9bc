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

package ops

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
)

// Hardware the process runs on
type Platform struct {
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	CPU           string `json:"cpu"`
	PhysicalCores int    `json:"physicalCores"`
	LogicalCores  int    `json:"logicalCores"`
	AVX2          bool   `json:"avx2"`
	L2CacheBytes  int    `json:"l2CacheBytes"`
	MemoryMB      int    `json:"memoryMB"`
}

func GetPlatform() Platform {
	return Platform{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		CPU:           cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		AVX2:          cpuid.CPU.AVX2(),
		L2CacheBytes:  cpuid.CPU.Cache.L2,
		MemoryMB:      int(memory.TotalMemory() / 1024 / 1024),
	}
}

func (p Platform) String() string {
	return fmt.Sprintf("%s/%s on %s with %d physical and %d logical cores, AVX2 %v, L2 cache %d KB, %d MB memory",
		p.OS, p.Arch, p.CPU, p.PhysicalCores, p.LogicalCores, p.AVX2, p.L2CacheBytes/1024, p.MemoryMB)
}
