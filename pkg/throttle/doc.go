// Package throttle paces the byte throughput of a duplex stream such as a
// file, a pipe or a net.Conn.
//
// A [Stream] wraps an [io.ReadWriter] and is used wherever the raw stream's
// blocking Read and Write would be. Each direction follows a token bucket:
// tokens accrue continuously at WindowLength bytes per WindowTime, up to
// BucketSize, and each byte moved spends one token. A Read or Write call
// loops until its buffer is serviced, sleeping whenever too few tokens are
// available.
//
// # Usage
//
//	cfg, err := throttle.NewRateConfig(64<<10, time.Second, 128<<10) // 64 KiB/s, 128 KiB burst
//	if err != nil {
//		return err
//	}
//	cfg.SetTimeout(30 * time.Second)
//
//	s := throttle.New(conn, throttle.WithReadLimit(cfg))
//	n, err := io.ReadFull(s, buf)
//
// # Bursts
//
// A fresh Stream starts with one window of tokens, so it may move
// min(WindowLength, BucketSize) bytes at once. A Stream left idle keeps
// accruing and may burst up to BucketSize. Longer transfers settle to the
// sustained rate min(WindowLength, BucketSize) per WindowTime.
//
// # Minimum operation size
//
// [RateConfig.SetMinOperationSize] keeps the Stream from issuing raw calls
// smaller than a given size (except for the final remainder of a buffer),
// which is useful on transports that frame data in large units.
//
// # Copying
//
// [Copy] pumps the read side of a Stream into its write side, flushing
// after every chunk. Pair it with [Join] to throttle a one-way transfer and
// with [ChunkSize] to pick a buffer that suits the limits:
//
//	s := throttle.New(throttle.Join(file, w), throttle.WithWriteLimit(cfg))
//	n, err := throttle.Copy(ctx, s, throttle.ChunkSize(&cfg))
//
// # Timeouts
//
// When a RateConfig carries a timeout, a call that cannot finish in time
// fails with an error matching [ErrTimeout], and the bytes moved during that
// call are not reported.
package throttle
