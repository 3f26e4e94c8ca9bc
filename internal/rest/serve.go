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

package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/apodize/internal/config"
	"github.com/mlnoga/apodize/internal/ops"
	"github.com/mlnoga/apodize/internal/ops/apodize"
)

// Serves the REST API on the configured port until the server fails
func Serve(cfg *config.Config, version string) error {
	r := NewRouter(cfg, version)
	return r.Run(fmt.Sprintf(":%d", cfg.Server.Port))
}

// Builds the router with all API routes
func NewRouter(cfg *config.Config, version string) *gin.Engine {
	s := &server{cfg: cfg, version: version}
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/version", s.getVersion)
			v1.POST("/job", s.postJob)
			v1.POST("/filter", s.postFilter)
		}
	}
	return r
}

type server struct {
	cfg     *config.Config
	version string
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func (s *server) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":  s.version,
		"platform": ops.GetPlatform(),
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Serializes writes from concurrent operators and flushes each one to the client
type streamWriter struct {
	mutex sync.Mutex
	w     gin.ResponseWriter
}

func (sw *streamWriter) Write(p []byte) (int, error) {
	sw.mutex.Lock()
	defer sw.mutex.Unlock()
	n, err := sw.w.Write(p)
	sw.w.Flush()
	return n, err
}

// Starts a streamed plain text response for log output
func startStream(c *gin.Context) *streamWriter {
	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain")
	c.Writer.WriteHeader(http.StatusOK)
	return &streamWriter{w: c.Writer}
}

// Runs an operator tree with paths restricted to the working directory, streaming the log
func (s *server) run(op ops.Operator, logWriter io.Writer) {
	opts, err := s.cfg.Options()
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	ctx := ops.NewContext(logWriter, opts)
	ctx.RestrictPaths = true
	promises, err := op.MakePromises(nil, ctx)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	if _, err = ops.MaterializeAll(promises, ctx.SceneConcurrency(), true); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	fmt.Fprintf(logWriter, "Done.\n")
}

func (s *server) postJob(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	op, err := ops.UnmarshalOperator(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logWriter := startStream(c)
	if err := printArgs(logWriter, "Job:\n", "\n", op); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}
	s.run(op, logWriter)
}

func (s *server) postFilter(c *gin.Context) {
	job := apodize.NewFilterJobDefault()
	job.Out = s.cfg.Output.File
	job.ReplaceNaNs = s.cfg.Output.ReplaceNaNs
	job.Preview, job.PreviewMode = s.cfg.Output.Preview, s.cfg.Output.PreviewMode
	job.Gamma, job.Quality = s.cfg.Output.Gamma, s.cfg.Output.Quality
	job.LowPercentile, job.HighPercentile = s.cfg.Output.LowPercentile, s.cfg.Output.HighPercentile
	if err := c.ShouldBindJSON(job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	seq, err := job.Sequence(0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logWriter := startStream(c)
	if err := printArgs(logWriter, "Arguments:\n", "\n", job); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}
	s.run(seq, logWriter)
}
