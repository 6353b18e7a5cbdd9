package fasjson

import (
	"context"
	"fmt"
	"iter"
)

// EntityIterator walks every record of a paginated list operation. Pages
// are fetched one at a time, only when the consumer reaches the end of
// the current one, and the walk stops on the page the server reports as
// the last. An iterator cannot be restarted.
type EntityIterator struct {
	ctx       context.Context
	operation Operation
	args      Args
	buffer    []interface{}
	index     int
	nextPage  int
	done      bool
	err       error
	pages     int
}

// NewEntityIterator creates an iterator over operation, which must accept
// page_number and page_size arguments.
func NewEntityIterator(ctx context.Context, operation Operation, args Args, pageSize int) *EntityIterator {
	pageArgs := args.Clone()
	pageArgs[PageSizeArg] = pageSize

	return &EntityIterator{
		ctx:       ctx,
		operation: operation,
		args:      pageArgs,
		nextPage:  1,
	}
}

// HasNext reports whether another record is available, fetching the next
// page if the current one is exhausted.
func (it *EntityIterator) HasNext() bool {
	return it.fill()
}

// Next returns the next record.
func (it *EntityIterator) Next() (interface{}, error) {
	if !it.fill() {
		if it.err != nil {
			return nil, it.err
		}

		return nil, ErrIteratorDone
	}

	record := it.buffer[it.index]
	it.index++

	return record, nil
}

// Err returns the error that stopped the iteration, if any.
func (it *EntityIterator) Err() error {
	return it.err
}

// Pages returns how many pages have been fetched so far.
func (it *EntityIterator) Pages() int {
	return it.pages
}

// All drains the iterator.
func (it *EntityIterator) All() ([]interface{}, error) {
	var all []interface{}

	for it.HasNext() {
		record, err := it.Next()
		if err != nil {
			return all, err
		}

		all = append(all, record)
	}

	return all, it.err
}

// ForEach calls fn for every remaining record. Iteration stops at the
// first error returned by fn.
func (it *EntityIterator) ForEach(fn func(record interface{}) error) error {
	for it.HasNext() {
		record, err := it.Next()
		if err != nil {
			return err
		}

		if err := fn(record); err != nil {
			return err
		}
	}

	return it.err
}

// Seq adapts the iterator to a range-over-func sequence. Breaking out of
// the loop fetches nothing further.
func (it *EntityIterator) Seq() iter.Seq2[interface{}, error] {
	return func(yield func(interface{}, error) bool) {
		for it.HasNext() {
			record, err := it.Next()
			if !yield(record, err) || err != nil {
				return
			}
		}

		if it.err != nil {
			yield(nil, it.err)
		}
	}
}

func (it *EntityIterator) fill() bool {
	for it.index >= len(it.buffer) {
		if it.done {
			return false
		}

		it.fetch()
	}

	return true
}

func (it *EntityIterator) fetch() {
	requested := it.nextPage

	args := it.args.Clone()
	args[PageNumberArg] = requested

	resp, err := it.operation.Call(it.ctx, args)
	if err != nil {
		it.stop(err)

		return
	}

	it.pages++

	records, err := resp.Records()
	if err != nil {
		it.stop(newPaginationError(err, fmt.Sprintf("result of %s is not a collection", it.operation.Name()), nil))

		return
	}

	it.buffer = records
	it.index = 0

	page := resp.Page()
	if page == nil || page.PageNumber >= page.TotalPages {
		it.done = true

		return
	}

	if page.PageNumber < requested {
		// the records of this page are still handed out before the error
		it.done = true
		it.err = newPaginationError(ErrPageOutOfRange,
			fmt.Sprintf("server returned page %d when page %d was requested", page.PageNumber, requested),
			map[string]interface{}{"page_number": page.PageNumber, "requested": requested})

		return
	}

	it.nextPage = page.PageNumber + 1
}

// stop ends the iteration with err once the buffered records are consumed.
func (it *EntityIterator) stop(err error) {
	it.done = true
	it.err = err
	it.buffer = it.buffer[:0]
	it.index = 0
}
