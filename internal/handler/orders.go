package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/angostura/backend/internal/domain/order"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCreateOrder(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.orders.Create(r.Context(), req)
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	filter := order.ListFilter{
		CustomerID: r.URL.Query().Get("customer_id"),
		State:      order.State(r.URL.Query().Get("state")),
	}

	list, err := h.orders.List(r.Context(), filter)
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range list {
			encodeOrder(e, &list[i])
		}
		e.ArrEnd()
	})
}

func (h *Handler) claimOrder(w http.ResponseWriter, r *http.Request) {
	var delivererID string
	d := jx.Decode(r.Body, 512)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "deliverer_id" {
			return d.Skip()
		}
		v, err := d.Str()
		delivererID = v
		return err
	})
	if err != nil || delivererID == "" {
		writeError(w, http.StatusBadRequest, "deliverer_id is required")
		return
	}

	o, err := h.orders.Claim(r.Context(), r.PathValue("id"), delivererID)
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) dispatchOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Dispatch(r.Context(), r.PathValue("id"))
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Deliver(r.Context(), r.PathValue("id"))
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) setOrderState(w http.ResponseWriter, r *http.Request) {
	var state string
	d := jx.Decode(r.Body, 512)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "state" {
			return d.Skip()
		}
		v, err := d.Str()
		state = v
		return err
	})
	if err != nil || state == "" {
		writeError(w, http.StatusBadRequest, "state is required")
		return
	}

	o, err := h.orders.AdminSetState(r.Context(), r.PathValue("id"), order.State(state))
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// decodeCreateOrder parses the create-order payload. Money comes in as JSON
// strings to keep exact decimal semantics on the wire.
func decodeCreateOrder(body io.Reader) (order.CreateRequest, error) {
	var req order.CreateRequest
	d := jx.Decode(body, 4096)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "customer_id":
			v, err := d.Str()
			req.CustomerID = v
			return err
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				var line order.LineRequest
				err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "product_id":
						v, err := d.Str()
						line.ProductID = v
						return err
					case "quantity":
						v, err := d.Int()
						line.Quantity = v
						return err
					default:
						return d.Skip()
					}
				})
				req.Lines = append(req.Lines, line)
				return err
			})
		case "shipping_cost":
			v, err := d.Str()
			if err != nil {
				return err
			}
			cost, err := decimal.NewFromString(v)
			if err != nil {
				return errors.Wrap(err, "shipping_cost")
			}
			req.ShippingCost = cost
			return nil
		case "ship_to_address":
			v, err := d.Str()
			req.ShipToAddress = v
			return err
		case "requested_at":
			v, err := d.Str()
			if err != nil {
				return err
			}
			at, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return errors.Wrap(err, "requested_at")
			}
			req.RequestedAt = &at
			return nil
		case "notes":
			v, err := d.Str()
			req.Notes = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return order.CreateRequest{}, errors.Wrap(err, "decode order")
	}
	return req, nil
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("customer_id")
	e.Str(o.CustomerID)
	if o.DelivererID != "" {
		e.FieldStart("deliverer_id")
		e.Str(o.DelivererID)
	}
	e.FieldStart("state")
	e.Str(string(o.State))
	e.FieldStart("subtotal")
	e.Str(o.Subtotal.StringFixed(2))
	e.FieldStart("shipping_cost")
	e.Str(o.ShippingCost.StringFixed(2))
	e.FieldStart("total")
	e.Str(o.Total.StringFixed(2))
	if o.ShipToAddress != "" {
		e.FieldStart("ship_to_address")
		e.Str(o.ShipToAddress)
	}
	if o.RequestedAt != nil {
		e.FieldStart("requested_at")
		e.Str(o.RequestedAt.Format(time.RFC3339))
	}
	if o.Notes != "" {
		e.FieldStart("notes")
		e.Str(o.Notes)
	}
	if len(o.Lines) > 0 {
		e.FieldStart("lines")
		e.ArrStart()
		for _, l := range o.Lines {
			e.ObjStart()
			e.FieldStart("product_id")
			e.Str(l.ProductID)
			e.FieldStart("quantity")
			e.Int(l.Quantity)
			e.FieldStart("unit_price")
			e.Str(l.UnitPrice.StringFixed(2))
			e.FieldStart("line_subtotal")
			e.Str(l.LineSubtotal.StringFixed(2))
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.FieldStart("created_at")
	e.Str(o.CreatedAt.Format(time.RFC3339))
	e.FieldStart("updated_at")
	e.Str(o.UpdatedAt.Format(time.RFC3339))
	if o.DeliveredAt != nil {
		e.FieldStart("delivered_at")
		e.Str(o.DeliveredAt.Format(time.RFC3339))
	}
	e.ObjEnd()
}
