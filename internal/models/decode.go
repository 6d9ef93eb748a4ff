package models

import "encoding/json"

// DealFromJSON разбирает документ сделки
func DealFromJSON(data []byte) (*Deal, error) {
	var d Deal
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// MessageFromJSON разбирает документ сообщения
func MessageFromJSON(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ItemFromJSON разбирает документ вещи
func ItemFromJSON(data []byte) (*Item, error) {
	var i Item
	if err := json.Unmarshal(data, &i); err != nil {
		return nil, err
	}
	return &i, nil
}
